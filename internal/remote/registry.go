package remote

import (
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/backup"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticbeanstalk"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticsearchservice"
	"github.com/aws/aws-sdk-go-v2/service/fsx"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/networkfirewall"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53domains"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/waf"
	"github.com/aws/aws-sdk-go-v2/service/workspaces"
)

// ClientFactory builds a service client for a region-targeted config.
type ClientFactory func(cfg aws.Config) any

// Registry maps catalog service names to client factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ClientFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ClientFactory)}
}

// Register adds or replaces the factory for a service.
func (r *Registry) Register(service string, factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[service] = factory
}

// Lookup returns the factory for a service.
func (r *Registry) Lookup(service string) (ClientFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[service]
	return f, ok
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with a client for every service in the
// built-in catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("acm", func(c aws.Config) any { return acm.NewFromConfig(c) })
	r.Register("apigatewayv2", func(c aws.Config) any { return apigatewayv2.NewFromConfig(c) })
	r.Register("athena", func(c aws.Config) any { return athena.NewFromConfig(c) })
	r.Register("autoscaling", func(c aws.Config) any { return autoscaling.NewFromConfig(c) })
	r.Register("backup", func(c aws.Config) any { return backup.NewFromConfig(c) })
	r.Register("cloudformation", func(c aws.Config) any { return cloudformation.NewFromConfig(c) })
	r.Register("cloudfront", func(c aws.Config) any { return cloudfront.NewFromConfig(c) })
	r.Register("cloudtrail", func(c aws.Config) any { return cloudtrail.NewFromConfig(c) })
	r.Register("cloudwatch", func(c aws.Config) any { return cloudwatch.NewFromConfig(c) })
	r.Register("codebuild", func(c aws.Config) any { return codebuild.NewFromConfig(c) })
	r.Register("codedeploy", func(c aws.Config) any { return codedeploy.NewFromConfig(c) })
	r.Register("config", func(c aws.Config) any { return configservice.NewFromConfig(c) })
	r.Register("dynamodb", func(c aws.Config) any { return dynamodb.NewFromConfig(c) })
	r.Register("ec2", func(c aws.Config) any { return ec2.NewFromConfig(c) })
	r.Register("ecr", func(c aws.Config) any { return ecr.NewFromConfig(c) })
	r.Register("ecs", func(c aws.Config) any { return ecs.NewFromConfig(c) })
	r.Register("efs", func(c aws.Config) any { return efs.NewFromConfig(c) })
	r.Register("eks", func(c aws.Config) any { return eks.NewFromConfig(c) })
	r.Register("elasticache", func(c aws.Config) any { return elasticache.NewFromConfig(c) })
	r.Register("elasticbeanstalk", func(c aws.Config) any { return elasticbeanstalk.NewFromConfig(c) })
	r.Register("elb", func(c aws.Config) any { return elasticloadbalancing.NewFromConfig(c) })
	r.Register("elbv2", func(c aws.Config) any { return elasticloadbalancingv2.NewFromConfig(c) })
	r.Register("es", func(c aws.Config) any { return elasticsearchservice.NewFromConfig(c) })
	r.Register("fsx", func(c aws.Config) any { return fsx.NewFromConfig(c) })
	r.Register("glacier", func(c aws.Config) any { return glacier.NewFromConfig(c) })
	r.Register("glue", func(c aws.Config) any { return glue.NewFromConfig(c) })
	r.Register("guardduty", func(c aws.Config) any { return guardduty.NewFromConfig(c) })
	r.Register("iam", func(c aws.Config) any { return iam.NewFromConfig(c) })
	r.Register("kinesis", func(c aws.Config) any { return kinesis.NewFromConfig(c) })
	r.Register("kms", func(c aws.Config) any { return kms.NewFromConfig(c) })
	r.Register("lambda", func(c aws.Config) any { return lambda.NewFromConfig(c) })
	r.Register("logs", func(c aws.Config) any { return cloudwatchlogs.NewFromConfig(c) })
	r.Register("memorydb", func(c aws.Config) any { return memorydb.NewFromConfig(c) })
	r.Register("network-firewall", func(c aws.Config) any { return networkfirewall.NewFromConfig(c) })
	r.Register("rds", func(c aws.Config) any { return rds.NewFromConfig(c) })
	r.Register("redshift", func(c aws.Config) any { return redshift.NewFromConfig(c) })
	r.Register("route53", func(c aws.Config) any { return route53.NewFromConfig(c) })
	r.Register("route53domains", func(c aws.Config) any { return route53domains.NewFromConfig(c) })
	r.Register("s3", func(c aws.Config) any { return s3.NewFromConfig(c) })
	r.Register("sagemaker", func(c aws.Config) any { return sagemaker.NewFromConfig(c) })
	r.Register("secretsmanager", func(c aws.Config) any { return secretsmanager.NewFromConfig(c) })
	r.Register("sns", func(c aws.Config) any { return sns.NewFromConfig(c) })
	r.Register("sqs", func(c aws.Config) any { return sqs.NewFromConfig(c) })
	r.Register("ssm", func(c aws.Config) any { return ssm.NewFromConfig(c) })
	r.Register("waf", func(c aws.Config) any { return waf.NewFromConfig(c) })
	r.Register("workspaces", func(c aws.Config) any { return workspaces.NewFromConfig(c) })
	return r
}
