package session

import "github.com/sarchlab/workertiming/hooking"

// A list of hook positions raised along a session's lifecycle.
var (
	HookPosSessionOpen         = &hooking.HookPos{Name: "SessionOpen"}
	HookPosEntryAppended       = &hooking.HookPos{Name: "EntryAppended"}
	HookPosInvalidEntry        = &hooking.HookPos{Name: "InvalidEntry"}
	HookPosLateCall            = &hooking.HookPos{Name: "LateCall"}
	HookPosExtensionRegistered = &hooking.HookPos{Name: "ExtensionRegistered"}
	HookPosExtensionSettled    = &hooking.HookPos{Name: "ExtensionSettled"}
	HookPosDecided             = &hooking.HookPos{Name: "Decided"}
	HookPosSealed              = &hooking.HookPos{Name: "Sealed"}
	HookPosDiscarded           = &hooking.HookPos{Name: "Discarded"}
)

// Late call operations.
const (
	OpAppend            = "append"
	OpRegisterExtension = "register_extension"
	OpDecide            = "decide"
	OpCarry             = "carry"
)

// LifecycleEvent is the hook item of every session hook position. Only the
// fields relevant to the position are set.
type LifecycleEvent struct {
	Session     *Session
	Record      *TimingRecord
	Handle      *ExtensionHandle
	Disposition Disposition
	Op          string
	Reason      string
	Err         error
}
