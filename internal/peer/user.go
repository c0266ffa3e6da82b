package peer

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/pkg/httpclient"
)

// User はユーザーサービスが返すユーザーのうち、通知サービスが参照する項目。
type User struct {
	// ID はユーザーID。
	ID ID `json:"id"`
}

// UserGateway はユーザーサービスへのゲートウェイ。
type UserGateway struct {
	client *httpclient.Client
	logger *zap.Logger
}

// NewUserGateway は新しいUserGatewayを生成する。
func NewUserGateway(client *httpclient.Client, logger *zap.Logger) *UserGateway {
	return &UserGateway{
		client: client,
		logger: logger.With(zap.String("component", "user_gateway")),
	}
}

// GetUser は指定IDのユーザーを取得する。
// 存在しない場合はErrNotFound、到達できない場合はErrUnavailableをラップしたエラーを返す。
func (g *UserGateway) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := call(ctx, g.client, g.logger, "user", "get_user", "/api/users/"+url.PathEscape(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
