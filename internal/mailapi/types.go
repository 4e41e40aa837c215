package mailapi

// PageSize is the fixed number of messages the backend returns per page.
const PageSize = 30

// Account is a mailbox known to a provider. Password, Token and ProviderID are
// local fields and never come from the backend.
type Account struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Quota      int64  `json:"quota,omitempty"`
	Used       int64  `json:"used,omitempty"`
	IsDisabled bool   `json:"isDisabled,omitempty"`
	IsDeleted  bool   `json:"isDeleted,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`

	Password   string `json:"password,omitempty"`
	Token      string `json:"token,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

// WithProfile copies backend profile fields onto a, keeping local fields.
func (a Account) WithProfile(p *Account) Account {
	if p == nil {
		return a
	}
	if p.ID != "" {
		a.ID = p.ID
	}
	if p.Address != "" {
		a.Address = p.Address
	}
	a.Quota = p.Quota
	a.Used = p.Used
	a.IsDisabled = p.IsDisabled
	a.IsDeleted = p.IsDeleted
	a.CreatedAt = p.CreatedAt
	a.UpdatedAt = p.UpdatedAt
	return a
}

// Addressee is a sender or recipient.
type Addressee struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Message is a list entry from GET /messages.
type Message struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"accountId,omitempty"`
	MsgID          string      `json:"msgid,omitempty"`
	From           Addressee   `json:"from"`
	To             []Addressee `json:"to,omitempty"`
	Subject        string      `json:"subject"`
	Intro          string      `json:"intro,omitempty"`
	Seen           bool        `json:"seen"`
	IsDeleted      bool        `json:"isDeleted,omitempty"`
	HasAttachments bool        `json:"hasAttachments,omitempty"`
	Size           int64       `json:"size,omitempty"`
	DownloadURL    string      `json:"downloadUrl,omitempty"`
	CreatedAt      string      `json:"createdAt,omitempty"`
	UpdatedAt      string      `json:"updatedAt,omitempty"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Disposition string `json:"disposition,omitempty"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// MessageDetail is the full message from GET /messages/{id}.
type MessageDetail struct {
	Message
	CC            []Addressee  `json:"cc,omitempty"`
	BCC           []Addressee  `json:"bcc,omitempty"`
	Flagged       bool         `json:"flagged,omitempty"`
	Verifications []string     `json:"verifications,omitempty"`
	Retention     bool         `json:"retention,omitempty"`
	RetentionDate string       `json:"retentionDate,omitempty"`
	Text          string       `json:"text,omitempty"`
	HTML          []string     `json:"html,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// MessagePage is one page of the inbox.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	HasMore  bool      `json:"hasMore"`
}

// TokenResponse is the reply of POST /token.
type TokenResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

type hydraCollection[T any] struct {
	Member     []T `json:"hydra:member"`
	TotalItems int `json:"hydra:totalItems"`
}

// HasMore reports whether another page follows page given the returned count and total.
func HasMore(page, returned, total int) bool {
	return returned == PageSize && page*PageSize < total
}
