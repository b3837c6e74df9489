package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	ct "github.com/dennislee928/carbontrade"
	"github.com/dennislee928/carbontrade/storage"
)

const (
	MaxPictureSize  = 5 << 20
	MaxDocumentSize = 10 << 20
)

var (
	pictureTypes  = []string{"image/jpeg", "image/png", "image/webp"}
	documentTypes = []string{"image/jpeg", "image/png", "application/pdf"}
)

type KYCResponse struct {
	KYCStatus   string `json:"kyc_status"`
	DocumentURL string `json:"document_url"`
}

// readUpload pulls one multipart file, sniffs its type and stores it under
// prefix/<user>/<random><ext>.
func (a *App) readUpload(w http.ResponseWriter, r *http.Request, field, prefix string, maxSize int64, allowed []string) (string, bool) {
	if a.Blobs == nil {
		ct.WriteError(w, http.StatusServiceUnavailable, "Uploads are not configured")
		return "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		ct.WriteError(w, http.StatusBadRequest, "Invalid upload or file too large")
		return "", false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		ct.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Missing %s file", field))
		return "", false
	}
	defer file.Close()
	if header.Size > maxSize {
		ct.WriteError(w, http.StatusBadRequest, fmt.Sprintf("File exceeds %d MB", maxSize>>20))
		return "", false
	}

	contentType, body, err := sniff(file)
	if err != nil {
		ct.WriteError(w, http.StatusBadRequest, "Unreadable upload")
		return "", false
	}
	if !slices.Contains(allowed, contentType) {
		ct.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %s", contentType))
		return "", false
	}

	userID := ct.GetUserIDFromContext(r.Context())
	key := fmt.Sprintf("%s/%s/%s%s", prefix, userID, uuid.NewString(), storage.ExtensionFor(contentType))
	url, err := a.Blobs.Put(r.Context(), key, body, contentType)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to store upload", "key", key, "error", err)
		ct.WriteError(w, http.StatusInternalServerError, "Failed to store file")
		return "", false
	}
	return url, true
}

func sniff(file multipart.File) (string, io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, err
	}
	head = head[:n]
	return http.DetectContentType(head), io.MultiReader(bytes.NewReader(head), file), nil
}

func (a *App) handleUploadPicture(w http.ResponseWriter, r *http.Request) {
	url, ok := a.readUpload(w, r, "picture", "pictures", MaxPictureSize, pictureTypes)
	if !ok {
		return
	}
	user, err := a.Users.GetUserByID(ct.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	user.PictureURL = url
	user.UpdatedAt = time.Now()
	if err := a.Users.SaveUser(user); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	ct.WriteData(w, http.StatusOK, user, "Profile picture updated")
}

func (a *App) handleUploadKYC(w http.ResponseWriter, r *http.Request) {
	url, ok := a.readUpload(w, r, "document", "kyc", MaxDocumentSize, documentTypes)
	if !ok {
		return
	}
	user, err := a.Users.GetUserByID(ct.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	user.KYCStatus = ct.KYCSubmitted
	user.UpdatedAt = time.Now()
	if err := a.Users.SaveUser(user); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	ct.WriteData(w, http.StatusOK, KYCResponse{KYCStatus: user.KYCStatus, DocumentURL: url}, "KYC document submitted")
}
