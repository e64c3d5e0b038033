// Package whatsapp implements backend.Backend on top of go.mau.fi/whatsmeow.
//
// Each user gets a private SQLite device store at <authDir>/session.db,
// opened with either the cgo driver (github.com/mattn/go-sqlite3, "sqlite3")
// or the pure Go one (modernc.org/sqlite, "sqlite"). An unpaired device
// streams QR codes from whatsmeow's QR channel; a paired one reconnects with
// its stored keys.
//
// whatsmeow events map onto backend events as follows:
//
//	PairSuccess                    -> Authenticated
//	Connected                      -> Ready
//	LoggedOut, StreamReplaced      -> Disconnected
//	PairError, ConnectFailure,
//	TemporaryBan, ClientOutdated,
//	QR timeout or error            -> AuthFailure
//
// Plain socket drops (events.Disconnected) are not forwarded; whatsmeow
// reconnects on its own and a later Connected is harmless for a ready session.
package whatsapp
