// Package all registers every built-in backend. Importing it for side
// effects is how a binary chooses its backend set.
package all

import (
	// Each backend registers its mount-spec type in init().
	_ "github.com/govfsd/vfsd/backend/local"
	_ "github.com/govfsd/vfsd/backend/sftp"
)
