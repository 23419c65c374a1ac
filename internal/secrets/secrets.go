// Package secrets resolves API keys from the environment or SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// ErrNotFound means neither source had a value.
var ErrNotFound = errors.New("secret not configured")

// SSMAPI is the subset of *ssm.Client the resolver uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Resolver struct {
	// SSM may be nil when no AWS config is available, leaving env as the only source
	SSM SSMAPI
	// Getenv defaults to os.Getenv
	Getenv func(string) string
}

// Resolve returns the value of envKey when set, otherwise the decrypted SSM parameter
// ssmParam. Values are trimmed and must be non-empty.
func (r *Resolver) Resolve(ctx context.Context, envKey, ssmParam string) (string, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if envKey != "" {
		if v := strings.TrimSpace(getenv(envKey)); v != "" {
			return v, nil
		}
	}
	if ssmParam == "" || r.SSM == nil {
		return "", xerrors.Wrapf(ErrNotFound, "env %s unset and no SSM parameter", envKey)
	}

	out, err := r.SSM.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(ssmParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", ssmParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Wrapf(ErrNotFound, "SSM parameter %s has no value", ssmParam)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Wrapf(ErrNotFound, "SSM parameter %s is empty", ssmParam)
	}
	return v, nil
}
