// Package attachment turns a picked image file into a pending composer
// attachment.
package attachment

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	apperrors "multichat/errors"
	"multichat/utils"

	"github.com/gabriel-vasile/mimetype"
)

// MaxSizeBytes is the attachment ceiling (5 MiB). Files of exactly this size
// are accepted.
const MaxSizeBytes = 5 * 1024 * 1024

// Reason says why a file was rejected.
type Reason string

const (
	ReasonNotAnImage Reason = "not-an-image"
	ReasonTooLarge   Reason = "too-large"
)

// ValidationError is returned when a file cannot become an attachment.
type ValidationError struct {
	Reason   Reason
	FileName string
	MIMEType string
	Size     int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTooLarge:
		return fmt.Sprintf("%s is %d bytes; images must be at most 5 MB", e.FileName, e.Size)
	case ReasonNotAnImage:
		return fmt.Sprintf("%s is not an image (%s)", e.FileName, e.MIMEType)
	default:
		return fmt.Sprintf("%s was rejected: %s", e.FileName, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// File is a picked file as the browser hands it over.
type File struct {
	Name         string
	DeclaredType string
	Data         []byte
}

// Attachment is the transient, composer-scoped image. It is never part of a
// session; sends embed only its Preview.
type Attachment struct {
	FileName       string
	MIMEType       string
	EncodedPayload string
	PreviewHandle  string
	SizeBytes      int64
}

// Preview is the lightweight copy of an attachment kept in chat history.
type Preview struct {
	DataURL string `json:"data_url"`
	Alt     string `json:"alt"`
}

// Preview returns the history copy of a.
func (a *Attachment) Preview() *Preview {
	return &Preview{DataURL: a.PreviewHandle, Alt: a.FileName}
}

// Build validates f and encodes it. It has no side effects.
func Build(f File) (*Attachment, error) {
	size := int64(len(f.Data))
	mimeType := resolveType(f.DeclaredType, f.Data)
	if err := validate(f.Name, mimeType, size); err != nil {
		return nil, err
	}

	payload := base64.StdEncoding.EncodeToString(f.Data)
	return &Attachment{
		FileName:       f.Name,
		MIMEType:       mimeType,
		EncodedPayload: payload,
		PreviewHandle:  "data:" + mimeType + ";base64," + payload,
		SizeBytes:      size,
	}, nil
}

// FromMultipart reads an uploaded form file. Oversize files are rejected from
// the header size without reading the body.
func FromMultipart(fh *multipart.FileHeader) (*Attachment, error) {
	declared := fh.Header.Get("Content-Type")
	name := utils.SanitizeFilename(fh.Filename)
	if name == "" {
		name = "image"
	}
	if fh.Size > MaxSizeBytes {
		mimeType := resolveType(declared, nil)
		if err := validate(name, mimeType, fh.Size); err != nil {
			return nil, err
		}
	}

	src, err := fh.Open()
	if err != nil {
		return nil, apperrors.WrapErrorf(err, "open upload %s", name)
	}
	defer src.Close()

	// one extra byte is enough to detect a body larger than its header claims
	data, err := io.ReadAll(io.LimitReader(src, MaxSizeBytes+1))
	if err != nil {
		return nil, apperrors.WrapErrorf(err, "read upload %s", name)
	}
	return Build(File{Name: name, DeclaredType: declared, Data: data})
}

func validate(name, mimeType string, size int64) error {
	if !strings.HasPrefix(mimeType, "image/") {
		return &ValidationError{Reason: ReasonNotAnImage, FileName: name, MIMEType: mimeType, Size: size}
	}
	if size > MaxSizeBytes {
		return &ValidationError{Reason: ReasonTooLarge, FileName: name, MIMEType: mimeType, Size: size}
	}
	return nil
}

// resolveType prefers the declared type and sniffs the bytes only when the
// browser did not declare anything useful.
func resolveType(declared string, data []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	mediaType, _, _ := mime.ParseMediaType(mimetype.Detect(data).String())
	return mediaType
}
