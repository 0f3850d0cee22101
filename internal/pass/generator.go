package pass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"ms-ledger/internal/models"
)

// Payload is what a scanned pass decrypts to at the check-in desk.
type Payload struct {
	ItemID     string `json:"item_id"`
	OrderID    string `json:"order_id"`
	OrderCode  string `json:"order_code"`
	EventID    string `json:"event_id"`
	ItemName   string `json:"item_name"`
	OptionName string `json:"option_name"`
	Attendee   string `json:"attendee,omitempty"`
	IssuedAt   int64  `json:"issued_at"`
}

// Generator issues AES-encrypted QR passes for bought items.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// GeneratePass renders a PNG QR code for a bought item. Only items in
// the bought state get a pass.
func (g *Generator) GeneratePass(item models.BoughtItem, order models.Order, attendeeName string) ([]byte, error) {
	if item.Status != models.ItemBought {
		return nil, errors.New("pass is only available for bought items")
	}

	payload := Payload{
		ItemID:     item.ID,
		OrderID:    order.ID,
		OrderCode:  order.Code,
		EventID:    order.EventID,
		ItemName:   item.ItemName,
		OptionName: item.ItemOptionName,
		Attendee:   attendeeName,
		IssuedAt:   time.Now().Unix(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// DecodePass reverses GeneratePass's encryption for check-in scanners.
// It takes the string content of a scanned QR code.
func (g *Generator) DecodePass(content string) (*Payload, error) {
	data, err := decryptAES(content, g.secret)
	if err != nil {
		return nil, err
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]

	plaintext := make([]byte, len(body))
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(plaintext, body)
	return plaintext, nil
}
