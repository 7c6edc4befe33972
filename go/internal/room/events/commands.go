package events

import (
	"encoding/json"
	"fmt"
)

// Command is the client→server envelope. SentAt is the client's estimate of
// server time in Unix ms; Fingerprint is the queue fingerprint the client
// currently believes, checked by the server before the command is applied.
type Command struct {
	Name        CommandName     `json:"command"`
	SentAt      int64           `json:"sent_at"`
	Fingerprint string          `json:"fingerprint"`
	Args        json.RawMessage `json:"args"`
}

type CommandName string

const (
	CommandPauseToggle   CommandName = "PauseToggle"
	CommandLoopToggle    CommandName = "LoopToggle"
	CommandShuffleToggle CommandName = "ShuffleToggle"
	CommandSeek          CommandName = "Seek"
	CommandSkip          CommandName = "Skip"
	CommandMove          CommandName = "Move"
	CommandAdd           CommandName = "Add"
	CommandDelete        CommandName = "Delete"
	CommandClear         CommandName = "Clear"
	// CommandRoomInfo requests a fresh snapshot for the calling connection.
	// It carries no fingerprint check and mutates nothing.
	CommandRoomInfo CommandName = "RoomInfo"
)

type PauseToggleArgs struct {
	Paused bool `json:"paused"`
}

type LoopToggleArgs struct {
	Looping bool `json:"looping"`
}

type ShuffleToggleArgs struct {
	Shuffled bool `json:"shuffled"`
}

type SeekArgs struct {
	// Seconds is the target playback position.
	Seconds int  `json:"seconds"`
	Pause   bool `json:"pause"`
}

type SkipArgs struct {
	// Index addresses the target slot in the currently active order.
	Index int `json:"index"`
}

type MoveArgs struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type AddArgs struct {
	// TrackIDs are content-hash references to already resolved tracks.
	TrackIDs []string `json:"track_ids"`
}

type DeleteArgs struct {
	ItemID int `json:"item_id"`
}

// NewCommand builds a command envelope around typed args.
func NewCommand(name CommandName, sentAt int64, fp string, args interface{}) (Command, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return Command{}, fmt.Errorf("marshal %s args: %w", name, err)
	}
	return Command{Name: name, SentAt: sentAt, Fingerprint: fp, Args: data}, nil
}

// ParseCommandArgs parses a command's args into the struct for its name.
func ParseCommandArgs(cmd Command) (interface{}, error) {
	switch cmd.Name {
	case CommandPauseToggle:
		return unmarshalArgs[PauseToggleArgs](cmd)
	case CommandLoopToggle:
		return unmarshalArgs[LoopToggleArgs](cmd)
	case CommandShuffleToggle:
		return unmarshalArgs[ShuffleToggleArgs](cmd)
	case CommandSeek:
		return unmarshalArgs[SeekArgs](cmd)
	case CommandSkip:
		return unmarshalArgs[SkipArgs](cmd)
	case CommandMove:
		return unmarshalArgs[MoveArgs](cmd)
	case CommandAdd:
		return unmarshalArgs[AddArgs](cmd)
	case CommandDelete:
		return unmarshalArgs[DeleteArgs](cmd)
	case CommandClear, CommandRoomInfo:
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Name)
	}
}

func unmarshalArgs[T any](cmd Command) (T, error) {
	var args T
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return args, fmt.Errorf("unmarshal %s args: %w", cmd.Name, err)
	}
	return args, nil
}
