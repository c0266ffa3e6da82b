// Package middleware は通知サービスのGin HTTP APIで使用する共通ミドルウェアを提供する。
//
// zapによるアクセスログとリクエストIDの付与、パニックリカバリ、
// CORS設定を含む。
package middleware
