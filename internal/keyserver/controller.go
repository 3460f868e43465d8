package keyserver

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/netresearch/gpgkeys-ldap/internal/dialect"
	"github.com/netresearch/gpgkeys-ldap/internal/directory"
	"github.com/netresearch/gpgkeys-ldap/internal/pgprecord"
	"github.com/netresearch/gpgkeys-ldap/internal/protocol"
)

// Controller wires a parsed request to the directory gateway and the
// three operation drivers.
type Controller struct {
	Gateway        directory.Gateway
	Profile        *dialect.Profile
	ResponseWriter *protocol.ResponseWriter
	TimeEncoding   pgprecord.TimeEncoding
	Logger         zerolog.Logger
}

// Dispatch runs req to completion, reading any publish record bodies
// from lr, and returns CodeOK if every item succeeded or the most
// recently observed failure code otherwise.
func (c *Controller) Dispatch(ctx context.Context, req *protocol.Request, lr *protocol.LineReader) Code {
	failed := false
	last := CodeOK

	record := func(f *Failure) {
		if f != nil {
			failed = true
			last = f.Code
		}
	}

	switch req.Action {
	case protocol.ActionGet:
		for _, key := range req.Keys {
			record(Fetch(ctx, c.Gateway, c.Profile, key, req.Options, c.ResponseWriter, c.Logger))
		}

	case protocol.ActionSend:
		for {
			var eof bool

			var failure *Failure

			if c.Profile.RealLDAP {
				eof, failure = PublishReal(ctx, c.Gateway, c.Profile, lr, c.TimeEncoding, c.ResponseWriter, c.Logger)
			} else {
				eof, failure = PublishLegacy(ctx, c.Gateway, c.Profile, lr, c.ResponseWriter, c.Logger)
			}

			record(failure)

			if eof {
				break
			}
		}

	case protocol.ActionSearch:
		record(Search(ctx, c.Gateway, c.Profile, req.Keys, req.Options, c.ResponseWriter, c.Logger))
	}

	if !failed {
		return CodeOK
	}

	return last
}

// FailAll reports every item in req as FAILED with code without issuing
// any directory call, used when the directory dial, bind, or dialect
// probe itself failed.
func FailAll(rw *protocol.ResponseWriter, req *protocol.Request, code Code) {
	switch req.Action {
	case protocol.ActionSearch:
		if len(req.Keys) == 0 {
			return
		}

		_ = rw.WriteString("SEARCH ")

		for _, k := range req.Keys {
			_ = rw.Printf("%s ", k)
		}

		_ = rw.Printf("FAILED %d\n", int(code))

	case protocol.ActionGet:
		for _, k := range req.Keys {
			_ = rw.Printf("KEY %s FAILED %d\n", k, int(code))
		}

	case protocol.ActionSend, protocol.ActionNone:
		// The reference's fail_all is a no-op here: a send request's key
		// list is always empty (its body was discarded during parsing).
	}
}
