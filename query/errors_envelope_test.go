package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-signatures/core"
)

func TestGetSignatureRequestMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetSignatureRequestMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.SignatureErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.SignatureErrorBadInput, rich.TextCode)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var qry *DegradedStatusQuery
	_, err := qry.Query(context.Background(), DegradedStatusMessage{})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
