package model

import "errors"

// ErrLinkAlreadyExists は同一ユーザーが同じURLを重複登録しようとしたことを表す。
var ErrLinkAlreadyExists = errors.New("link already exists")
