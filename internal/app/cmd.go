package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はワーカーモードで起動することを示す。
	// 検出・キュー投入・解析・通知集約・クリーンアップの全ジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandDetect はリリース検出サイクルを1回だけ実行することを示す。
	CommandDetect Command = "detect"
	// CommandEnqueue はキュー投入スイープを1回だけ実行することを示す。
	CommandEnqueue Command = "enqueue"
	// CommandNotify は通知集約を1回だけ実行することを示す。
	CommandNotify Command = "notify"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "detect":
		return CommandDetect
	case "enqueue":
		return CommandEnqueue
	case "notify":
		return CommandNotify
	default:
		return CommandWorker
	}
}
