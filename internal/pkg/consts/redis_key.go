package consts

const (
	IMUserKey         = "im:user:"
	IMConversationKey = "im:conversation:"
	AttachmentTempKey = "attachment:temp"
)

const (
	CallJanitorLock = "lock:call:janitor"
)
