// Package httpclient はピアサービス（タスク・ユーザー）とのHTTP通信を行うクライアントを提供する。
//
// タイムアウト付きのJSON GETを共通化し、非2xxレスポンスはStatusErrorとして
// 呼び出し側に返す。リクエストIDはコンテキスト経由で伝播する。
package httpclient
