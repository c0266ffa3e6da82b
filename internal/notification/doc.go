// Package notification は通知サービスの内部実装を提供する。
//
// 通知をユーザーとタスクに紐づけて保存し、一覧取得と既読化のAPIを提供する。
// タスクサービスをポーリングして期限の近いタスクを検出し、
// 未読の通知がまだ無いタスクについて通知を生成する（Reconciler）。
// Reconcilerは定期実行（Scheduler）とAPIの両方から起動される。
package notification
