package content

import (
	"encoding/json"
	"fmt"
	"time"

	"sealedmsg/internal/domain"
)

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Metadata is the off-ledger envelope of an overflowed payload. It is either
// a TextMetadata or a FileMetadata.
type Metadata interface {
	Kind() Kind
	validate() error
}

type TextMetadata struct {
	Text      string
	CreatedAt time.Time
}

func (TextMetadata) Kind() Kind { return KindText }

func (m TextMetadata) validate() error {
	if m.Text == "" {
		return fmt.Errorf("%w: text metadata without text", domain.ErrValidation)
	}
	return nil
}

type FileMetadata struct {
	// Message is optional text sent along with the file.
	Message     string
	FileName    string
	FileSize    int64
	MimeType    string
	FileAddress string
	CreatedAt   time.Time
}

func (FileMetadata) Kind() Kind { return KindFile }

func (m FileMetadata) validate() error {
	if m.FileName == "" || m.FileAddress == "" || m.FileSize < 0 {
		return fmt.Errorf("%w: incomplete file metadata", domain.ErrValidation)
	}
	return nil
}

type envelope struct {
	Type        Kind      `json:"type"`
	Text        string    `json:"text,omitempty"`
	Message     string    `json:"message,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	FileSize    int64     `json:"fileSize,omitempty"`
	MimeType    string    `json:"mimeType,omitempty"`
	FileAddress string    `json:"fileAddress,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func MarshalMetadata(m Metadata) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	var env envelope
	switch v := m.(type) {
	case TextMetadata:
		env = envelope{Type: KindText, Text: v.Text, CreatedAt: v.CreatedAt}
	case FileMetadata:
		env = envelope{
			Type:        KindFile,
			Message:     v.Message,
			FileName:    v.FileName,
			FileSize:    v.FileSize,
			MimeType:    v.MimeType,
			FileAddress: v.FileAddress,
			CreatedAt:   v.CreatedAt,
		}
	default:
		return nil, fmt.Errorf("%w: unknown metadata %T", domain.ErrValidation, m)
	}
	return json.Marshal(env)
}

// UnmarshalMetadata decodes an envelope and dispatches on its type field.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrValidation, err)
	}
	var m Metadata
	switch env.Type {
	case KindText:
		m = TextMetadata{Text: env.Text, CreatedAt: env.CreatedAt}
	case KindFile:
		m = FileMetadata{
			Message:     env.Message,
			FileName:    env.FileName,
			FileSize:    env.FileSize,
			MimeType:    env.MimeType,
			FileAddress: env.FileAddress,
			CreatedAt:   env.CreatedAt,
		}
	default:
		return nil, fmt.Errorf("%w: unknown metadata type %q", domain.ErrValidation, env.Type)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
