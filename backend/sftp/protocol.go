package sftp

import (
	"time"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/wire"
)

// SFTP v3 packet types.
const (
	sshFxpInit     = 1
	sshFxpVersion  = 2
	sshFxpOpen     = 3
	sshFxpClose    = 4
	sshFxpRead     = 5
	sshFxpWrite    = 6
	sshFxpLstat    = 7
	sshFxpFstat    = 8
	sshFxpSetstat  = 9
	sshFxpFsetstat = 10
	sshFxpOpendir  = 11
	sshFxpReaddir  = 12
	sshFxpRemove   = 13
	sshFxpMkdir    = 14
	sshFxpRmdir    = 15
	sshFxpRealpath = 16
	sshFxpStat     = 17
	sshFxpRename   = 18
	sshFxpReadlink = 19
	sshFxpSymlink  = 20

	sshFxpStatus = 101
	sshFxpHandle = 102
	sshFxpData   = 103
	sshFxpName   = 104
	sshFxpAttrs  = 105
)

// SFTP v3 status codes.
const (
	sshFxOk               = 0
	sshFxEOF              = 1
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxFailure          = 4
	sshFxBadMessage       = 5
	sshFxNoConnection     = 6
	sshFxConnectionLost   = 7
	sshFxOpUnsupported    = 8
)

// SSH_FXP_OPEN pflags.
const (
	sshFxfRead   = 0x00000001
	sshFxfWrite  = 0x00000002
	sshFxfAppend = 0x00000004
	sshFxfCreat  = 0x00000008
	sshFxfTrunc  = 0x00000010
)

// SSH_FILEXFER_ATTR flags.
const (
	sshFilexferAttrSize        = 0x00000001
	sshFilexferAttrUidgid      = 0x00000002
	sshFilexferAttrPermissions = 0x00000004
	sshFilexferAttrAcmodtime   = 0x00000008
	sshFilexferAttrExtended    = 0x80000000
)

// sftpReply is one demultiplexed response: its packet type and a
// reader positioned right after the type+request-id fields.
type sftpReply struct {
	typ uint8
	r   *wire.Reader
}

// errEOF signals SSH_FX_EOF, which doRead treats as a clean
// end-of-file rather than a transport error.
var errEOF = vfs.New(vfs.KindIO, "sftp: eof", nil)

// statusError decodes an SSH_FXP_STATUS payload and maps its code into
// the broker's error taxonomy. A code of SSH_FX_OK means the
// operation succeeded with no further payload.
func statusError(r *wire.Reader) error {
	code, err := r.Uint32()
	if err != nil {
		return vfs.New(vfs.KindMalformed, "sftp: malformed STATUS packet", err)
	}
	msg, _ := r.String()
	switch code {
	case sshFxOk:
		return nil
	case sshFxEOF:
		return errEOF
	case sshFxNoSuchFile:
		return vfs.New(vfs.KindNotFound, sftpMsgOr(msg, "no such file"), nil)
	case sshFxPermissionDenied:
		return vfs.New(vfs.KindPermissionDenied, sftpMsgOr(msg, "permission denied"), nil)
	case sshFxBadMessage:
		return vfs.New(vfs.KindMalformed, sftpMsgOr(msg, "bad message"), nil)
	case sshFxOpUnsupported:
		return vfs.New(vfs.KindNotSupported, sftpMsgOr(msg, "operation unsupported"), nil)
	case sshFxNoConnection, sshFxConnectionLost:
		return vfs.New(vfs.KindIO, sftpMsgOr(msg, "connection lost"), nil)
	default: // sshFxFailure and any future/vendor code
		return vfs.New(vfs.KindIO, sftpMsgOr(msg, "operation failed"), nil)
	}
}

func sftpMsgOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// decodeAttrs reads an SSH_FILEXFER_ATTRS structure into a
// FileInfo for name, including the few fields an SFTP v3 server
// actually sends (size, permissions, mtime); extended pairs are
// skipped, matching what a generic client needs.
func decodeAttrs(name string, r *wire.Reader) (*vfs.FileInfo, error) {
	flags, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	fi := vfs.NewFileInfo().SetString(vfs.AttrStandardName, name)

	var size int64 = -1
	var perm uint32
	var mtime int64
	haveSize := false
	havePerm := false
	haveTime := false

	if flags&sshFilexferAttrSize != 0 {
		v, e := r.Uint64()
		if e != nil {
			return nil, e
		}
		size = int64(v)
		haveSize = true
	}
	if flags&sshFilexferAttrUidgid != 0 {
		if _, e := r.Uint32(); e != nil { // uid
			return nil, e
		}
		if _, e := r.Uint32(); e != nil { // gid
			return nil, e
		}
	}
	if flags&sshFilexferAttrPermissions != 0 {
		v, e := r.Uint32()
		if e != nil {
			return nil, e
		}
		perm = v
		havePerm = true
	}
	if flags&sshFilexferAttrAcmodtime != 0 {
		if _, e := r.Uint32(); e != nil { // atime
			return nil, e
		}
		v, e := r.Uint32() // mtime
		if e != nil {
			return nil, e
		}
		mtime = int64(v)
		haveTime = true
	}
	if flags&sshFilexferAttrExtended != 0 {
		count, e := r.Uint32()
		if e != nil {
			return nil, e
		}
		for i := uint32(0); i < count; i++ {
			if _, e := r.String(); e != nil { // extended type
				return nil, e
			}
			if _, e := r.String(); e != nil { // extended data
				return nil, e
			}
		}
	}

	if haveSize {
		fi.SetInt64(vfs.AttrStandardSize, size)
	}
	if havePerm {
		fi.SetInt64(vfs.AttrUnixMode, int64(perm&0o7777))
		typ := vfs.FileTypeRegular
		switch {
		case perm&0o170000 == 0o040000:
			typ = vfs.FileTypeDirectory
		case perm&0o170000 == 0o120000:
			typ = vfs.FileTypeSymlink
		}
		fi.SetInt64(vfs.AttrStandardType, int64(typ))
		fi.SetBool(vfs.AttrStandardIsSymlink, perm&0o170000 == 0o120000)
	}
	if haveTime {
		fi.SetTime(vfs.AttrTimeModified, time.Unix(mtime, 0).UTC())
	}
	return fi, nil
}
