package domain

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"
)

// Mask selects which unlock predicates must hold.
type Mask uint8

const (
	CondTime    Mask = 1 << 0
	CondPayment Mask = 1 << 1

	knownConditions = CondTime | CondPayment
)

func (m Mask) Has(c Mask) bool { return m&c != 0 }

// Valid reports whether at least one known condition is set and no unknown
// bits are present.
func (m Mask) Valid() bool {
	return m != 0 && m&^knownConditions == 0
}

// Identity is the base64url (unpadded) encoding of an Ed25519 public key.
// Identities are self-certifying: the key that verifies a signature is
// recovered from the identity itself.
type Identity string

func IdentityFromPublicKey(pub ed25519.PublicKey) Identity {
	return Identity(base64.RawURLEncoding.EncodeToString(pub))
}

func (id Identity) PublicKey() (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(id))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidIdentity
	}
	return ed25519.PublicKey(raw), nil
}

func (id Identity) Validate() error {
	_, err := id.PublicKey()
	return err
}

func (id Identity) String() string { return string(id) }

// PreviewMeta is attached to a message at creation so receivers know a
// preview exists before polling for it.
type PreviewMeta struct {
	MimeType  string `json:"mimeType,omitempty"`
	ShortHash string `json:"shortHash,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// Metadata is the view of a message visible to its sender and receiver.
type Metadata struct {
	ID              uint64       `json:"id"`
	Sender          Identity     `json:"sender"`
	Receiver        Identity     `json:"receiver"`
	Mask            Mask         `json:"mask"`
	UnlockTime      int64        `json:"unlockTime"`
	RequiredPayment uint64       `json:"requiredPayment"`
	PaidAmount      uint64       `json:"paidAmount"`
	IsUnlocked      bool         `json:"isUnlocked"`
	IsRead          bool         `json:"isRead"`
	Preview         *PreviewMeta `json:"preview,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// MappingRecord maps a short hash to a full content address.
type MappingRecord struct {
	ShortHash string    `json:"shortHash"`
	FullHash  string    `json:"fullHash"`
	FileName  string    `json:"fileName,omitempty"`
	FileSize  int64     `json:"fileSize,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PreviewRecord holds the low-fidelity derivative published for a message.
type PreviewRecord struct {
	MessageID      uint64    `json:"messageId"`
	PreviewDataURL string    `json:"previewDataUrl"`
	MimeType       string    `json:"mimeType"`
	ShortHash      string    `json:"shortHash,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
