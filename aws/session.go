package aws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// Environment variables that select how a session is built.
const (
	EnvRoleARN = "LEGO_ROLE_ARN"
	EnvProfile = "LEGO_AWS_PROFILE"
)

// DefaultRoleSessionName is used when assuming LEGO_ROLE_ARN.
const DefaultRoleSessionName = "assumed_role"

// s3MaxConns mirrors the large connection pool bulk transfers need.
const s3MaxConns = 200

var (
	// ErrNoCredentials is returned when no AWS credentials could be resolved.
	ErrNoCredentials = errors.New("no AWS credentials found")

	// ErrTokenExpired is returned when the session token is expired.
	ErrTokenExpired = errors.New("AWS token is expired, please refresh your token or session")
)

// SessionOptions controls how LoadConfig resolves credentials.
type SessionOptions struct {
	Region          string
	Profile         string // Shared config profile; empty uses the SDK default chain
	RoleARN         string // When set, the role is assumed and takes precedence over Profile
	RoleSessionName string
}

// SessionOptionsFromEnv builds options from LEGO_ROLE_ARN and LEGO_AWS_PROFILE.
func SessionOptionsFromEnv(region string) SessionOptions {
	return SessionOptions{
		Region:          region,
		Profile:         os.Getenv(EnvProfile),
		RoleARN:         os.Getenv(EnvRoleARN),
		RoleSessionName: DefaultRoleSessionName,
	}
}

// LoadConfig loads an AWS configuration. If a role ARN is configured the
// returned config uses cached assume-role credentials, otherwise the named
// profile (or the default chain) is used.
func LoadConfig(ctx context.Context, opts SessionOptions) (awssdk.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.RoleARN == "" && opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		sessionName := opts.RoleSessionName
		if sessionName == "" {
			sessionName = DefaultRoleSessionName
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), opts.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = sessionName
			})
		cfg.Credentials = awssdk.NewCredentialsCache(provider)
	}

	return cfg, nil
}

// Identity describes the caller of the current session.
type Identity struct {
	Account string
	ARN     string
	UserID  string
	Alias   string // First IAM account alias, empty if none or not permitted
}

// CheckSession validates the session by calling GetCallerIdentity. The IAM
// client is optional and only used to look up the account alias.
func CheckSession(ctx context.Context, stsClient STSClient, iamClient IAMClient) (Identity, error) {
	out, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, classifySessionError(err)
	}

	id := Identity{
		Account: awssdk.ToString(out.Account),
		ARN:     awssdk.ToString(out.Arn),
		UserID:  awssdk.ToString(out.UserId),
	}

	if iamClient != nil {
		// Alias lookup needs extra permissions; a failure leaves Alias empty.
		aliases, err := iamClient.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
		if err == nil && len(aliases.AccountAliases) > 0 {
			id.Alias = aliases.AccountAliases[0]
		}
	}

	return id, nil
}

func classifySessionError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ExpiredToken", "ExpiredTokenException", "RequestExpired":
			return fmt.Errorf("%w: %s", ErrTokenExpired, apiErr.ErrorMessage())
		}
	}
	if strings.Contains(err.Error(), "failed to retrieve credentials") {
		return fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	return fmt.Errorf("failed to get caller identity: %w", err)
}

// Clients bundles the SDK clients built from a single configuration.
type Clients struct {
	S3             *s3.Client
	DynamoDB       *dynamodb.Client
	SecretsManager *secretsmanager.Client
	STS            *sts.Client
	IAM            *iam.Client
}

// NewClients creates every service client from cfg.
func NewClients(cfg awssdk.Config) *Clients {
	s3HTTP := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.MaxIdleConns = s3MaxConns
		tr.MaxIdleConnsPerHost = s3MaxConns
	})

	return &Clients{
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.HTTPClient = s3HTTP
		}),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
		IAM:            iam.NewFromConfig(cfg),
	}
}
