package chat

import "time"

// Message is one entry of an order's chat log. Text and attachment
// messages share the table; an attachment message carries an empty body
// and a stored file path.
type Message struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Tenant   string `gorm:"type:varchar(64);not null;index:idx_order_messages,priority:1"`
	OrderID  string `gorm:"type:varchar(64);not null;index:idx_order_messages,priority:2"`
	UserType string `gorm:"type:varchar(16);not null"` // client / designer / admin
	UserName string `gorm:"type:varchar(128)"`
	Body     string `gorm:"type:text"`
	FilePath string `gorm:"type:varchar(512)"`
	FileName string `gorm:"type:varchar(255)"`

	CreatedAt time.Time
}

func (Message) TableName() string { return "order_messages" }

const wireTimeLayout = "2006-01-02 15:04:05"

// WireMessage is the JSON record shape the portal front ends consume.
type WireMessage struct {
	ID          uint64 `json:"id"`
	OrderID     string `json:"orderid"`
	UserType    string `json:"user_type"`
	UserName    string `json:"user_name,omitempty"`
	Message     string `json:"message"`
	MessageDate string `json:"message_date"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

func (m *Message) Wire() WireMessage {
	return WireMessage{
		ID:          m.ID,
		OrderID:     m.OrderID,
		UserType:    m.UserType,
		UserName:    m.UserName,
		Message:     m.Body,
		MessageDate: m.CreatedAt.Format(wireTimeLayout),
		FilePath:    m.FilePath,
		FileName:    m.FileName,
	}
}
