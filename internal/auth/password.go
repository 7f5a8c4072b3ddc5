package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// パスワード長の制約
const (
	MinPasswordLength = 8
	MaxPasswordLength = 16
)

// BcryptHasher はbcryptでパスワードをハッシュ化する。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。cost が範囲外の場合は既定値を使う。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードのハッシュを返す。
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	return string(hashed), nil
}

// Compare はパスワードがハッシュと一致するかを返す。
func (h *BcryptHasher) Compare(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("パスワードの照合に失敗しました: %w", err)
}

// ValidatePassword はパスワードポリシー（8〜16文字、大文字・小文字・数字を各1文字以上、空白なし）を満たすかを返す。
func ValidatePassword(password string) bool {
	n := len([]rune(password))
	if n < MinPasswordLength || n > MaxPasswordLength {
		return false
	}
	if strings.IndexFunc(password, unicode.IsSpace) >= 0 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}
