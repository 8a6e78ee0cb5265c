package handler

import (
	"Crewline/internal/pkg/response"
	"Crewline/internal/service"

	"github.com/gin-gonic/gin"
)

type AttachmentHandler struct {
	attachmentService service.AttachmentService
}

func NewAttachmentHandler(attachmentService service.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachmentService: attachmentService}
}

// Upload 附件上传
func (s *AttachmentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	reader, err := file.Open()
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	defer func() { _ = reader.Close() }()

	res, err := s.attachmentService.Upload(c.Request.Context(), file.Filename, reader, file.Size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
