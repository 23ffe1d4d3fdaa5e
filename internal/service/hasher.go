package service

import "golang.org/x/crypto/bcrypt"

// bcryptMaxInput is the number of password bytes bcrypt takes into account.
const bcryptMaxInput = 72

// Hasher turns a plaintext password into its stored form.
type Hasher interface {
	Hash(password string) (string, error)
}

// BcryptHasher hashes with bcrypt at Cost. A zero cost uses bcrypt.DefaultCost.
// Passwords longer than 72 bytes are hashed on their first 72 bytes.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	pw := []byte(password)
	if len(pw) > bcryptMaxInput {
		pw = pw[:bcryptMaxInput]
	}
	b, err := bcrypt.GenerateFromPassword(pw, cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
