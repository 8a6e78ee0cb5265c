package service

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	log "log/slog"
	"path"
	"strings"
	"time"

	"Crewline/internal/api/dto"
	"Crewline/internal/pkg/consts"
	"Crewline/internal/pkg/minio"
	"Crewline/internal/pkg/util"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// 图片缩略图最长边
const thumbMaxSize = 512

// AttachmentService 附件上传：类型嗅探、对象存储落盘、图片缩略图
type AttachmentService interface {
	Upload(ctx context.Context, filename string, reader io.ReadSeeker, size int64) (*dto.AttachmentDTO, error)
}

type attachmentServiceImpl struct{}

func NewAttachmentService() AttachmentService {
	return &attachmentServiceImpl{}
}

// Upload 上传附件。MIME 以文件头嗅探结果为准，
// 图片额外生成一张 JPEG 缩略图，缩略图失败不影响原图上传。
func (s *attachmentServiceImpl) Upload(ctx context.Context, filename string, reader io.ReadSeeker, size int64) (*dto.AttachmentDTO, error) {
	if filename == "" || size <= 0 {
		return nil, ErrParamInvalid
	}

	contentType, err := util.GetSafeContentType(reader)
	if err != nil {
		return nil, ErrParamInvalid
	}
	if !allowedMime(contentType) {
		return nil, ErrFileNotSupported
	}

	objectName := time.Now().Format("2006/01/02/") + uuid.NewString() + path.Ext(filename)
	fileKey, err := minio.UploadFile(ctx, objectName, reader, size, contentType)
	if err != nil {
		log.ErrorContext(ctx, "MinIO upload failed", "object", objectName, "err", err)
		return nil, UnExpectedError
	}

	res := &dto.AttachmentDTO{
		URL:      minio.GetPublicURL(fileKey),
		Name:     filename,
		MimeType: contentType,
		Size:     size,
	}

	if strings.HasPrefix(contentType, consts.MimePrefixImage) {
		if thumbKey, err := s.uploadThumbnail(ctx, objectName, reader); err != nil {
			log.WarnContext(ctx, "缩略图生成失败", "object", objectName, "err", err)
		} else {
			res.ThumbURL = minio.GetPublicURL(thumbKey)
		}
	}

	return res, nil
}

// uploadThumbnail 生成等比缩略图并上传，对象名跟随原图
func (s *attachmentServiceImpl) uploadThumbnail(ctx context.Context, objectName string, reader io.ReadSeeker) (string, error) {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}

	thumb := imaging.Fit(img, thumbMaxSize, thumbMaxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return "", err
	}

	thumbName := strings.TrimSuffix(objectName, path.Ext(objectName)) + "_thumb.jpg"
	return minio.UploadFile(ctx, thumbName, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/jpeg")
}

func allowedMime(contentType string) bool {
	for _, prefix := range []string{consts.MimePrefixImage, consts.MimePrefixAudio, consts.MimePrefixVideo} {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	switch contentType {
	case consts.MimePDF, consts.MimeZip, consts.MimeText:
		return true
	}
	// text/plain 嗅探结果通常带 charset 后缀
	return strings.HasPrefix(contentType, consts.MimeText)
}
