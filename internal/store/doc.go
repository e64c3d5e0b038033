// Package store manages the on-disk authentication artifacts of each user.
//
// Every user owns one directory under the auth root:
//
//	<auth_dir>/<userId>/session.db
//	<auth_dir>/<userId>/.paired
//
// The backend keeps its device keys in session.db, which it creates before
// any QR is scanned. .paired is written once the device completes pairing.
// A user "has auth" when both exist; Purge removes the whole directory.
// User IDs double as directory names, so ValidateUserID rejects anything
// that could escape the root.
package store
