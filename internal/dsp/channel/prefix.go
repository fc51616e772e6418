package channel

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dsp/internal/dsp/wire"
)

// commandReqPrefix is the type-specific body of a COMMAND_REQ frame's
// opaque Prefix region: identifies the command, the slot it reserved,
// and the channel-assigned commandSN.
type commandReqPrefix struct {
	CommandID uint64
	CommandSN uint32
	SlotID    uint32
	SlotSN    uint32
}

const commandReqPrefixSize = 8 + 4 + 4 + 4

func (p commandReqPrefix) encode() []byte {
	b := make([]byte, commandReqPrefixSize)
	binary.BigEndian.PutUint64(b[0:8], p.CommandID)
	binary.BigEndian.PutUint32(b[8:12], p.CommandSN)
	binary.BigEndian.PutUint32(b[12:16], p.SlotID)
	binary.BigEndian.PutUint32(b[16:20], p.SlotSN)
	return b
}

func decodeCommandReqPrefix(b []byte) (commandReqPrefix, error) {
	if len(b) < commandReqPrefixSize {
		return commandReqPrefix{}, fmt.Errorf("channel: command request prefix too short: %d bytes", len(b))
	}
	return commandReqPrefix{
		CommandID: binary.BigEndian.Uint64(b[0:8]),
		CommandSN: binary.BigEndian.Uint32(b[8:12]),
		SlotID:    binary.BigEndian.Uint32(b[12:16]),
		SlotSN:    binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// commandRespPrefix is the type-specific body of a COMMAND_RESP frame.
type commandRespPrefix struct {
	CommandID uint64
	SlotID    uint32
	SlotSN    uint32
	Status    wire.CommandStatus
}

const commandRespPrefixSize = 8 + 4 + 4 + 1

func (p commandRespPrefix) encode() []byte {
	b := make([]byte, commandRespPrefixSize)
	binary.BigEndian.PutUint64(b[0:8], p.CommandID)
	binary.BigEndian.PutUint32(b[8:12], p.SlotID)
	binary.BigEndian.PutUint32(b[12:16], p.SlotSN)
	b[16] = byte(p.Status)
	return b
}

func decodeCommandRespPrefix(b []byte) (commandRespPrefix, error) {
	if len(b) < commandRespPrefixSize {
		return commandRespPrefix{}, fmt.Errorf("channel: command response prefix too short: %d bytes", len(b))
	}
	return commandRespPrefix{
		CommandID: binary.BigEndian.Uint64(b[0:8]),
		SlotID:    binary.BigEndian.Uint32(b[8:12]),
		SlotSN:    binary.BigEndian.Uint32(b[12:16]),
		Status:    wire.CommandStatus(b[16]),
	}, nil
}

// taskMgmtReqPrefix identifies the target command of an abort request.
type taskMgmtReqPrefix struct {
	CommandID uint64
}

const taskMgmtReqPrefixSize = 8

func (p taskMgmtReqPrefix) encode() []byte {
	b := make([]byte, taskMgmtReqPrefixSize)
	binary.BigEndian.PutUint64(b[0:8], p.CommandID)
	return b
}

func decodeTaskMgmtReqPrefix(b []byte) (taskMgmtReqPrefix, error) {
	if len(b) < taskMgmtReqPrefixSize {
		return taskMgmtReqPrefix{}, fmt.Errorf("channel: task management request prefix too short: %d bytes", len(b))
	}
	return taskMgmtReqPrefix{CommandID: binary.BigEndian.Uint64(b[0:8])}, nil
}

// taskMgmtRespPrefix carries the outcome of an abort exchange.
type taskMgmtRespPrefix struct {
	CommandID uint64
	Status    wire.TaskMgmtStatus
}

const taskMgmtRespPrefixSize = 8 + 1

func (p taskMgmtRespPrefix) encode() []byte {
	b := make([]byte, taskMgmtRespPrefixSize)
	binary.BigEndian.PutUint64(b[0:8], p.CommandID)
	b[8] = byte(p.Status)
	return b
}

func decodeTaskMgmtRespPrefix(b []byte) (taskMgmtRespPrefix, error) {
	if len(b) < taskMgmtRespPrefixSize {
		return taskMgmtRespPrefix{}, fmt.Errorf("channel: task management response prefix too short: %d bytes", len(b))
	}
	return taskMgmtRespPrefix{
		CommandID: binary.BigEndian.Uint64(b[0:8]),
		Status:    wire.TaskMgmtStatus(b[8]),
	}, nil
}
