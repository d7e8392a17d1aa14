package ember

import "errors"

// Manager-level sentinel errors, per the teacher's package-level
// errors.New convention (see connstate.ErrTorrentAtCapacity and
// scheduler.ErrSchedulerStopped).
var (
	ErrManagerStopped     = errors.New("manager has been stopped")
	ErrSendEventTimedOut  = errors.New("event loop send timed out")
	ErrTorrentNotFound    = errors.New("torrent not found")
	ErrTorrentExists      = errors.New("torrent already exists")
	ErrTorrentAtCapacity  = errors.New("torrent is at max connections")
	ErrPeerExists         = errors.New("peer already connected for this address")
	ErrAtomBanned         = errors.New("atom is banned")
	ErrBlocked            = errors.New("address is blocklisted")
	ErrAlreadyHandshaking = errors.New("address is already handshaking")
)
