package chatsync

import "time"

// Role identifies who authored a message or who is viewing the log.
type Role string

const (
	RoleClient   Role = "client"
	RoleDesigner Role = "designer"
	RoleAdmin    Role = "admin"
)

// Staff reports whether the role belongs to lab staff rather than a customer.
func (r Role) Staff() bool {
	return r == RoleDesigner || r == RoleAdmin
}

// Attachment points at a file stored on the server. Its presence means the
// message renders as a download, not as text.
type Attachment struct {
	Path     string
	FileName string
}

// Message is one entry of an order's chat log.
type Message struct {
	ID         int64
	OrderID    string
	SenderRole Role
	SenderName string
	Body       string
	SentAt     time.Time
	Attachment *Attachment
}

// wireMessage is the server's record shape (see the portal chat API).
type wireMessage struct {
	ID          int64  `json:"id"`
	OrderID     string `json:"orderid"`
	UserType    string `json:"user_type"`
	UserName    string `json:"user_name,omitempty"`
	Message     string `json:"message"`
	MessageDate string `json:"message_date"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

const wireTimeLayout = "2006-01-02 15:04:05"

func (w wireMessage) toMessage() Message {
	m := Message{
		ID:         w.ID,
		OrderID:    w.OrderID,
		SenderRole: Role(w.UserType),
		SenderName: w.UserName,
		Body:       w.Message,
	}
	if t, err := time.Parse(wireTimeLayout, w.MessageDate); err == nil {
		m.SentAt = t
	}
	if w.FilePath != "" {
		m.Attachment = &Attachment{Path: w.FilePath, FileName: w.FileName}
	}
	return m
}
