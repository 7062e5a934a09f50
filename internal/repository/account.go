// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/accountcore/internal/model"
)

// ErrUsernameTaken はusernameの一意制約違反を表す。
// 呼び出し側は別のusernameで再試行できる。
var ErrUsernameTaken = errors.New("username already taken")

// AccountRepository はアカウントデータの永続化インターフェース。
// 見つからない場合はいずれのメソッドも (nil, nil) を返す。
type AccountRepository interface {
	// GetByEmail は正規化済みメールアドレスでアカウントを取得する。
	// 論理削除済みのアカウントも返す。
	GetByEmail(ctx context.Context, email string) (*model.Account, error)

	// GetByProviderID は外部IdPのIDでアカウントを取得する。論理削除済みは除く。
	GetByProviderID(ctx context.Context, provider, providerID string) (*model.Account, error)

	// GetByProviderIDIncludingDeleted は論理削除済みも含めて外部IdPのIDで取得する。
	GetByProviderIDIncludingDeleted(ctx context.Context, provider, providerID string) (*model.Account, error)

	// GetByID は指定IDのアカウントを取得する。論理削除済みは除く。
	GetByID(ctx context.Context, id string) (*model.Account, error)

	// Add はアカウントを作成する。
	// emailまたは(provider, provider_id)が重複する場合は model.ErrAccountAlreadyExists を、
	// usernameが重複する場合は ErrUsernameTaken を返す。
	Add(ctx context.Context, account *model.Account) error

	// Update はアカウントを更新する。
	Update(ctx context.Context, account *model.Account) error
}
