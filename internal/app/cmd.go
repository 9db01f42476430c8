package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はpodpostのサブコマンド。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker" // 期限切れセッションの定期削除
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ErrUnknownCommand は未知のサブコマンドが指定された場合に返る。
var ErrUnknownCommand = errors.New("unknown command")

const usage = "usage: podpost [serve | worker | migrate [up | down [N] | force V | version] | healthcheck]"

// ParseCommand は先頭引数をサブコマンドとして解釈し、残りの引数とともに返す。
// 引数なしはserveとして扱う。
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 {
		return CommandServe, nil, nil
	}

	name := strings.ToLower(strings.TrimSpace(args[0]))
	cmd, ok := commands[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q\n%s", ErrUnknownCommand, args[0], usage)
	}
	return cmd, args[1:], nil
}
