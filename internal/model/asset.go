package model

// UploadedAsset describes a file written by an upload sink.
// StoredName is generated per write and never reused.
type UploadedAsset struct {
	OriginalName string `json:"original_name"`
	MediaType    string `json:"media_type"`
	Size         int64  `json:"size"`
	StoredName   string `json:"stored_name"`
}
