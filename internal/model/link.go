// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Link はユーザーが監視登録したURLを表す。
// (UserID, URL) の組はユニークである。
type Link struct {
	ID        string
	UserID    string
	URL       string
	IsAlive   bool
	CheckedAt *time.Time // 未チェックの場合はnil
	CreatedAt time.Time
}

// NewLink は新規登録用のLinkを生成する。
// 到達可否は楽観的にtrueで初期化し、チェック日時は未設定とする。
func NewLink(userID, url string, now time.Time) *Link {
	return &Link{
		ID:        uuid.New().String(),
		UserID:    userID,
		URL:       url,
		IsAlive:   true,
		CreatedAt: now,
	}
}

// NotifyPolicy はスキャナがプッシュ通知を送る条件を表す。
type NotifyPolicy string

const (
	// NotifyPolicyTransition は alive → dead に遷移したときだけ通知する。
	NotifyPolicyTransition NotifyPolicy = "transition"
	// NotifyPolicyAlways は dead を観測するたびに通知する。
	NotifyPolicyAlways NotifyPolicy = "always"
)

// ParseNotifyPolicy は文字列をNotifyPolicyに変換する。
func ParseNotifyPolicy(s string) (NotifyPolicy, error) {
	switch NotifyPolicy(s) {
	case NotifyPolicyTransition, NotifyPolicyAlways:
		return NotifyPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown notify policy: %q (allowed: %s, %s)", s, NotifyPolicyTransition, NotifyPolicyAlways)
	}
}

// ShouldNotify は前回と今回のチェック結果から通知要否を判定する。
func (p NotifyPolicy) ShouldNotify(wasAlive, isAlive bool) bool {
	if isAlive {
		return false
	}
	if p == NotifyPolicyAlways {
		return true
	}
	return wasAlive
}
