package consts

const (
	MimePrefixImage = "image"
	MimePrefixAudio = "audio"
	MimePrefixVideo = "video"
)

const (
	MimePDF  = "application/pdf"
	MimeZip  = "application/zip"
	MimeText = "text/plain"
)

const (
	BaseURL = "base_url"
)
