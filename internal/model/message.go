package model

import (
	"fmt"
	"strings"
)

// MessageNoLinksFound は登録リンクが0件のときの一覧応答。
const MessageNoLinksFound = "No links found."

// LinkExistsMessage は重複登録時の応答文を返す。
func LinkExistsMessage(url string) string {
	return fmt.Sprintf("Link already exists: %s", url)
}

// LinkSavedMessage は登録完了時の応答文を返す。
func LinkSavedMessage(url string) string {
	return fmt.Sprintf("Link saved: %s", url)
}

// LinkUnreachableMessage は到達不能なリンクの通知文を返す。
// 登録時の即時チェック応答とスキャナのプッシュ通知で共用する。
func LinkUnreachableMessage(url string) string {
	return fmt.Sprintf("This link is unreachable: %s", url)
}

// StatusLabel は到達可否の表示ラベルを返す。
func StatusLabel(alive bool) string {
	if alive {
		return "alive"
	}
	return "dead"
}

// LinkListMessage はリンク一覧の応答文を返す。1リンク1行。
func LinkListMessage(links []*Link) string {
	if len(links) == 0 {
		return MessageNoLinksFound
	}
	lines := make([]string, 0, len(links))
	for _, l := range links {
		lines = append(lines, fmt.Sprintf("[%s] %s", StatusLabel(l.IsAlive), l.URL))
	}
	return strings.Join(lines, "\n")
}
