package api

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"docintel/loader"
	"docintel/objstore"
	"docintel/types"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// FileHandler accepts PDF uploads into the configured bucket.
type FileHandler struct {
	storage objstore.Storage
	bucket  string
	logger  *zap.Logger
	now     func() time.Time
}

func NewFileHandler(storage objstore.Storage, bucket string, logger *zap.Logger) *FileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandler{
		storage: storage,
		bucket:  bucket,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	pages, err := loader.PageCount(data)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d-%s", h.now().UnixMilli(), objectName(fileHeader.Filename))
	if err := h.storage.Put(c.UserContext(), h.bucket, key, data, "application/pdf"); err != nil {
		return err
	}
	h.logger.Info("document uploaded",
		zap.String("bucket", h.bucket),
		zap.String("key", key),
		zap.Int("pages", pages),
		zap.Int("bytes", len(data)))

	return c.JSON(types.UploadResponse{Bucket: h.bucket, Key: key, Pages: pages})
}

// objectName drops any client supplied directories from filename.
func objectName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		return "document.pdf"
	}
	return name
}
