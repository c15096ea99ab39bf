package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/config"
)

// maxUploadBytes caps proof-of-delivery and profile picture uploads.
const maxUploadBytes = 10 << 20

// CloudinaryHandler handles Cloudinary related requests
type CloudinaryHandler struct{}

var (
	cloudinaryOnce   sync.Once
	cloudinaryClient *cloudinary.Cloudinary
	cloudinaryErr    error
)

// cloudinaryUploader builds the upload client once. CLOUDINARY_URL wins when
// set; otherwise the individual credential variables are used.
func cloudinaryUploader() (*cloudinary.Cloudinary, error) {
	cloudinaryOnce.Do(func() {
		if url := os.Getenv("CLOUDINARY_URL"); url != "" {
			cloudinaryClient, cloudinaryErr = cloudinary.NewFromURL(url)
			return
		}
		cloudinaryClient, cloudinaryErr = cloudinary.NewFromParams(
			os.Getenv("CLOUDINARY_CLOUD_NAME"),
			os.Getenv("CLOUDINARY_API_KEY"),
			os.Getenv("CLOUDINARY_API_SECRET"),
		)
	})
	return cloudinaryClient, cloudinaryErr
}

// GenerateSignature generates a signature for Cloudinary uploads
func (c CloudinaryHandler) GenerateSignature(w http.ResponseWriter, r *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	uploadPreset := os.Getenv("CLOUDINARY_UPLOAD_PRESET")
	apiSecret := os.Getenv("CLOUDINARY_API_SECRET")

	// Create the signature
	h := hmac.New(sha1.New, []byte(apiSecret))
	h.Write([]byte("timestamp=" + timestamp + "&upload_preset=" + uploadPreset))
	signature := hex.EncodeToString(h.Sum(nil))

	// Respond with the timestamp and signature
	response := map[string]string{
		"timestamp": timestamp,
		"signature": signature,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// UploadHandler relays a multipart file to Cloudinary server side, for
// clients that cannot use the signed direct upload
func (c CloudinaryHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	cld, err := cloudinaryUploader()
	if err != nil {
		config.ErrorStatus("cloudinary is not configured", http.StatusInternalServerError, w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		config.ErrorStatus("failed to parse multipart form", http.StatusBadRequest, w, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		config.ErrorStatus("file is required", http.StatusBadRequest, w, err)
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	resp, err := cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:   "swifthaul",
		PublicID: uuid.New().String(),
	})
	if err != nil {
		zap.S().Errorw("cloudinary upload failed", "filename", header.Filename, "error", err)
		config.ErrorStatus("failed to upload file", http.StatusBadGateway, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"url":      resp.SecureURL,
		"publicId": resp.PublicID,
	})
}
