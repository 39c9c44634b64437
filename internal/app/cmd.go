package app

import "fmt"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSweep は期限切れstateの掃除を1回だけ実行することを示す。
	CommandSweep Command = "sweep"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// マイグレーションの方向
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "sweep":
		return CommandSweep
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseMigrateDirection は "migrate [up|down]" の方向を解析する。省略時はup。
func ParseMigrateDirection(args []string) (string, error) {
	if len(args) < 2 {
		return MigrateUp, nil
	}
	switch args[1] {
	case MigrateUp, MigrateDown:
		return args[1], nil
	default:
		return "", fmt.Errorf("unknown migrate direction %q: must be %s or %s", args[1], MigrateUp, MigrateDown)
	}
}
