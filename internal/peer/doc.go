// Package peer はタスクサービスとユーザーサービスへの読み取り専用ゲートウェイを提供する。
//
// ゲートウェイは失敗を握りつぶさず、ErrNotFound または ErrUnavailable を
// ラップしたエラーとして呼び出し元に返す。
// 失敗時に空として扱うかどうかは呼び出し元が決める。
package peer
