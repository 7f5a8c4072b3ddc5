// Package user はユーザー登録・ログイン・プロフィール取得のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/hitoshi/taskhub/internal/auth"
	"github.com/hitoshi/taskhub/internal/model"
	"github.com/hitoshi/taskhub/internal/repository"
)

// PasswordHasher はパスワードのハッシュ化・照合インターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
}

// TokenIssuer はアクセストークンの発行インターフェース。
type TokenIssuer interface {
	Issue(user *model.User) (string, error)
}

// TextSanitizer は氏名のサニタイズインターフェース。
type TextSanitizer interface {
	PlainText(raw string) string
}

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Email     string
	Password  string
	Firstname string
	Lastname  string
	Roles     []string
}

// LoginResult はログイン結果。
type LoginResult struct {
	User  *model.User
	Token string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	hasher    PasswordHasher
	issuer    TokenIssuer
	sanitizer TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher PasswordHasher,
	issuer TokenIssuer,
	sanitizer TextSanitizer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		hasher:    hasher,
		issuer:    issuer,
		sanitizer: sanitizer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register はユーザーを登録する。ロール未指定の場合は USER とする。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	firstname := s.plain(in.Firstname)
	lastname := s.plain(in.Lastname)
	if email == "" || in.Password == "" || firstname == "" || lastname == "" {
		return nil, model.NewValidationError("email, password, firstname and lastname are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError("Email is invalid")
	}
	if !auth.ValidatePassword(in.Password) {
		return nil, model.NewWeakPasswordError()
	}

	roles, err := parseRoles(in.Roles)
	if err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError(email)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &model.User{
		ID:           model.NewID(),
		Email:        email,
		PasswordHash: hash,
		Firstname:    firstname,
		Lastname:     lastname,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateEmailError(email)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", u.ID),
	)
	return u, nil
}

// Login はメールアドレスとパスワードを照合し、アクセストークンを発行する。
// ユーザーの不在とパスワード不一致は区別せず同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	u, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Compare(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}
	return &LoginResult{User: u, Token: token}, nil
}

// Profile は認証済みユーザー自身の情報を返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	if !model.IsValidID(userID) {
		return nil, model.NewUserNotFoundError()
	}
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

func (s *Service) plain(v string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(v)
	}
	return s.sanitizer.PlainText(v)
}

func parseRoles(raw []string) ([]model.Role, error) {
	if len(raw) == 0 {
		return []model.Role{model.RoleUser}, nil
	}
	roles := make([]model.Role, 0, len(raw))
	for _, r := range raw {
		role, ok := model.ParseRole(r)
		if !ok {
			return nil, model.NewValidationError(fmt.Sprintf("Unknown role %q", r))
		}
		if !model.HasRole(roles, role) {
			roles = append(roles, role)
		}
	}
	return roles, nil
}
