package peer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound はピアサービスが404を返したことを示す。
	ErrNotFound = errors.New("peer: not found")
	// ErrUnavailable はピアサービスに到達できない、または不正な応答を返したことを示す。
	ErrUnavailable = errors.New("peer: unavailable")
)

// ID はピアサービスのエンティティID。
// ピアは整数IDを返すが、JSONの数値と文字列のどちらも受け付けて10進文字列として保持する。
type ID string

// String はIDを文字列として返す。
func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON は数値・文字列・nullのいずれかをIDとして読み込む。
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("IDは数値または文字列である必要があります: %s", data)
	}
	*id = ID(n.String())
	return nil
}
