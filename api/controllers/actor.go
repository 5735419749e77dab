package controllers

import (
	"net/http"

	"github.com/angelmondragon/kisaan-ledger/api/middleware"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
)

const maxNotesLen = 500

func requireActor(r *http.Request) (*auth.Actor, error) {
	actor := middleware.ActorFromContext(r.Context())
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	return actor, nil
}

func notes(value string) string {
	return validators.SanitizeString(value, maxNotesLen)
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
