// Package credentials acquires the account identity and client configuration a
// scan runs under, and discovers the regions it can target.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"
)

// Credential is the opaque session handed to the collector and the remote
// adapter. Only AccountID is inspected outside this package.
type Credential struct {
	AccountID string
	Config    aws.Config
}

// Valid reports whether the credential identifies an account.
func (c Credential) Valid() bool {
	return c.AccountID != ""
}

// Provider acquires credentials and enumerates regions.
type Provider interface {
	Credential(ctx context.Context, profile string) (Credential, error)
	Regions(ctx context.Context, cred Credential) ([]string, error)
}

// STSAPI defines the STS operations used by the provider.
type STSAPI interface {
	GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// RegionsAPI defines the EC2 operation used for region discovery.
type RegionsAPI interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// Options tunes the SDK client every remote call is built from.
type Options struct {
	HomeRegion      string
	ConnectTimeout  time.Duration
	MaxAttempts     int
	MaxIdlePerHost  int
	SessionDuration time.Duration
}

// DefaultOptions returns the client settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		HomeRegion:      "us-east-1",
		ConnectTimeout:  5 * time.Second,
		MaxAttempts:     5,
		MaxIdlePerHost:  100,
		SessionDuration: time.Hour,
	}
}

// ErrNoAccount is returned when the caller identity carries no account.
var ErrNoAccount = errors.New("caller identity has no account")

// AWSProvider loads shared configuration, exchanges it for a session token
// and resolves the caller's account.
type AWSProvider struct {
	opts   Options
	newSTS func(aws.Config) STSAPI
	newEC2 func(aws.Config) RegionsAPI
}

// NewAWSProvider creates a provider backed by the AWS SDK.
func NewAWSProvider(opts Options) *AWSProvider {
	def := DefaultOptions()
	if opts.HomeRegion == "" {
		opts.HomeRegion = def.HomeRegion
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.MaxIdlePerHost <= 0 {
		opts.MaxIdlePerHost = def.MaxIdlePerHost
	}
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = def.SessionDuration
	}
	return &AWSProvider{
		opts:   opts,
		newSTS: func(cfg aws.Config) STSAPI { return sts.NewFromConfig(cfg) },
		newEC2: func(cfg aws.Config) RegionsAPI { return ec2.NewFromConfig(cfg) },
	}
}

// Credential loads the named profile (or the default chain when empty).
func (p *AWSProvider) Credential(ctx context.Context, profile string) (Credential, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(p.opts.HomeRegion),
		config.WithHTTPClient(p.httpClient()),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewAdaptiveMode(), p.opts.MaxAttempts)
		}),
	}
	if profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return Credential{}, fmt.Errorf("load aws config: %w", err)
	}

	return Resolve(ctx, cfg, p.newSTS(cfg), p.opts.SessionDuration)
}

// Regions lists the regions enabled for the account.
func (p *AWSProvider) Regions(ctx context.Context, cred Credential) ([]string, error) {
	cfg := cred.Config.Copy()
	if cfg.Region == "" {
		cfg.Region = p.opts.HomeRegion
	}
	return ListRegions(ctx, p.newEC2(cfg))
}

func (p *AWSProvider) httpClient() *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = p.opts.ConnectTimeout
		}).
		WithTransportOptions(func(t *http.Transport) {
			t.MaxIdleConnsPerHost = p.opts.MaxIdlePerHost
		})
}

// Resolve swaps cfg's credentials for a temporary session when STS grants one
// and resolves the account id. Identities that cannot request a session token
// (roles, existing sessions) keep their base credentials.
func Resolve(ctx context.Context, cfg aws.Config, client STSAPI, duration time.Duration) (Credential, error) {
	seconds := int32(duration / time.Second)
	out, err := client.GetSessionToken(ctx, &sts.GetSessionTokenInput{DurationSeconds: aws.Int32(seconds)})
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("session token unavailable, using base credentials")
	case out.Credentials != nil:
		c := out.Credentials
		cfg.Credentials = aws.NewCredentialsCache(awscreds.NewStaticCredentialsProvider(
			aws.ToString(c.AccessKeyId),
			aws.ToString(c.SecretAccessKey),
			aws.ToString(c.SessionToken),
		))
	}

	ident, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Credential{}, fmt.Errorf("get caller identity: %w", err)
	}
	account := aws.ToString(ident.Account)
	if account == "" {
		return Credential{}, ErrNoAccount
	}

	log.Info().Str("account", account).Str("arn", aws.ToString(ident.Arn)).Msg("resolved caller identity")
	return Credential{AccountID: account, Config: cfg}, nil
}

// ListRegions returns the enabled region names, sorted.
func ListRegions(ctx context.Context, client RegionsAPI) ([]string, error) {
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	sort.Strings(regions)
	return regions, nil
}
