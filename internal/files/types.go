package files

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
)

type Kind int

const (
	KindPDF Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "PDF"
}

var allowedExtensions = map[Kind]map[string]bool{
	KindPDF: {".pdf": true},
	KindImage: {
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
		".tiff": true, ".tif": true, ".bmp": true, ".gif": true,
	},
}

var allowedMIME = map[Kind]map[string]bool{
	KindPDF: {"application/pdf": true, "application/x-pdf": true},
	KindImage: {
		"image/jpeg": true, "image/png": true, "image/webp": true,
		"image/tiff": true, "image/bmp": true, "image/gif": true,
	},
}

// ValidateType checks filename's extension against kind's allow-list. The
// declared content type is advisory: empty and octet-stream pass, any other
// type outside the allow-list is rejected.
func ValidateType(kind Kind, filename, contentType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[kind][ext] {
		return apperr.Validation(apperr.CodeInvalidFileType,
			fmt.Sprintf("expected a %s file, got %q", kind, filename))
	}

	if contentType == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return apperr.Validation(apperr.CodeContentTypeMismatch,
			fmt.Sprintf("unreadable content type %q for %q", contentType, filename))
	}
	if mt == "application/octet-stream" || allowedMIME[kind][mt] {
		return nil
	}
	return apperr.Validation(apperr.CodeContentTypeMismatch,
		fmt.Sprintf("content type %s does not match a %s file", mt, kind))
}
