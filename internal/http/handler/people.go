package handler

import (
	"errors"
	"mime/multipart"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"peopleapi/internal/service"
	"peopleapi/internal/upload"
	"peopleapi/internal/validation"
)

const (
	msgUserAdded     = "User was added successfully!"
	msgUserRemoved   = "User was removed successfully!"
	msgUnknownError  = "Unknown error occurred!"
	msgDeleteFailed  = "Could not delete the user!"
	kindStoreWrite   = validation.Kind("store_write_failed")
	avatarFieldName  = "avatar"
	commonFieldName  = "common"
	defaultMediaType = "application/octet-stream"
)

type messagePayload struct {
	Message string `json:"message"`
}

// ListPeople lists people with limit & offset.
//
// @Summary List users
// @Tags users
// @Produce json
// @Param limit query int false "page size" default(10)
// @Param offset query int false "rows to skip" default(0)
// @Success 200 {object} service.PersonListResult
// @Failure 400 {object} errorPayload
// @Router /users [get]
func ListPeople(svc service.PersonService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// CreatePerson adds a user from a form, optionally with an avatar file.
//
// @Summary Add user
// @Tags users
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "full name"
// @Param email formData string true "email address"
// @Param mobile formData string true "Bangladeshi mobile number (+8801XXXXXXXXX)"
// @Param password formData string true "password"
// @Param avatar formData file false "avatar image"
// @Success 201 {object} messagePayload
// @Failure 400 {object} fieldErrorsPayload
// @Failure 422 {object} fieldErrorsPayload
// @Failure 500 {object} fieldErrorsPayload
// @Router /users [post]
func CreatePerson(svc service.PersonService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		in := service.CreateInput{Fields: validation.Fields{
			Name:     c.FormValue("name"),
			Email:    c.FormValue("email"),
			Mobile:   c.FormValue("mobile"),
			Password: c.FormValue("password"),
		}}

		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			form, err := c.MultipartForm()
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "malformed multipart body")
			}
			if fh := firstFile(form); fh != nil {
				f, err := fh.Open()
				if err != nil {
					return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
				}
				defer f.Close()

				ct := fh.Header.Get(fiber.HeaderContentType)
				if ct == "" {
					ct = defaultMediaType
				}
				in.Avatar = &upload.File{Name: fh.Filename, MediaType: ct, Size: fh.Size, Body: f}
			}
		}

		_, err := svc.Create(c.UserContext(), in)
		if err == nil {
			return c.Status(fiber.StatusCreated).JSON(messagePayload{Message: msgUserAdded})
		}

		if rej, ok := upload.AsRejection(err); ok {
			status := fiber.StatusBadRequest
			if rej.Reason == upload.StorageWriteFailed {
				status = fiber.StatusInternalServerError
			}
			out := validation.Outcome{}
			out.Add(avatarFieldName, validation.Kind(rej.Reason), rej.Message)
			return writeFieldErrors(c, status, out)
		}

		var verr *service.ValidationError
		if errors.As(err, &verr) {
			return writeFieldErrors(c, fiber.StatusUnprocessableEntity, verr.Outcome)
		}

		out := validation.Outcome{}
		out.Add(commonFieldName, kindStoreWrite, msgUnknownError)
		return writeFieldErrors(c, fiber.StatusInternalServerError, out)
	}
}

// firstFile picks the "avatar" part when present, otherwise the first file by field name.
func firstFile(form *multipart.Form) *multipart.FileHeader {
	if fhs := form.File[avatarFieldName]; len(fhs) > 0 {
		return fhs[0]
	}
	fields := make([]string, 0, len(form.File))
	for k := range form.File {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		if fhs := form.File[k]; len(fhs) > 0 {
			return fhs[0]
		}
	}
	return nil
}

// GetPerson returns a person by ID.
//
// @Summary Get user
// @Tags users
// @Produce json
// @Param id path string true "user id"
// @Success 200 {object} model.Person
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /users/{id} [get]
func GetPerson(svc service.PersonService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		p, err := svc.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "user not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(p)
	}
}

// RemovePerson deletes a person and their avatar.
//
// @Summary Remove user
// @Tags users
// @Produce json
// @Param id path string true "user id"
// @Success 200 {object} messagePayload
// @Failure 404 {object} errorPayload
// @Failure 500 {object} fieldErrorsPayload
// @Router /users/{id} [delete]
func RemovePerson(svc service.PersonService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := svc.Remove(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "user not found")
			}
			out := validation.Outcome{}
			out.Add(commonFieldName, validation.Kind("store_delete_failed"), msgDeleteFailed)
			return writeFieldErrors(c, fiber.StatusInternalServerError, out)
		}
		return c.JSON(messagePayload{Message: msgUserRemoved})
	}
}

// PersonAvatar streams the avatar image of a person.
//
// @Summary Get user avatar
// @Tags users
// @Produce image/png,image/jpeg
// @Param id path string true "user id"
// @Success 200 {file} binary
// @Failure 404 {object} errorPayload
// @Router /users/{id}/avatar [get]
func PersonAvatar(svc service.PersonService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rc, info, err := svc.Avatar(c.UserContext(), id)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "user not found")
			case errors.Is(err, service.ErrNoAvatar):
				return writeError(c, fiber.StatusNotFound, "NO_AVATAR", "user has no avatar")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		ct := info.ContentType
		if ct == "" {
			ct = defaultMediaType
		}
		c.Set(fiber.HeaderContentType, ct)
		size := int(info.Size)
		if size <= 0 {
			size = -1
		}
		// fasthttp closes rc once the body is written.
		return c.SendStream(rc, size)
	}
}
