package cpejobs

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// createAttributes maps lower-cased configuration keys to the attributes
// accepted by CreateQueue. Read-only attributes (QueueArn, counters,
// timestamps) are not settable and are dropped.
var createAttributes = map[string]types.QueueAttributeName{ //nolint:gochecknoglobals
	"policy":                        types.QueueAttributeNamePolicy,
	"visibilitytimeout":             types.QueueAttributeNameVisibilityTimeout,
	"maximummessagesize":            types.QueueAttributeNameMaximumMessageSize,
	"messageretentionperiod":        types.QueueAttributeNameMessageRetentionPeriod,
	"delayseconds":                  types.QueueAttributeNameDelaySeconds,
	"receivemessagewaittimeseconds": types.QueueAttributeNameReceiveMessageWaitTimeSeconds,
	"redrivepolicy":                 types.QueueAttributeNameRedrivePolicy,
	"redriveallowpolicy":            types.QueueAttributeNameRedriveAllowPolicy,
	"fifoqueue":                     types.QueueAttributeNameFifoQueue,
	"contentbaseddeduplication":     types.QueueAttributeNameContentBasedDeduplication,
	"kmsmasterkeyid":                types.QueueAttributeNameKmsMasterKeyId,
	"kmsdatakeyreuseperiodseconds":  types.QueueAttributeNameKmsDataKeyReusePeriodSeconds,
	"sqsmanagedsseenabled":          types.QueueAttributeNameSqsManagedSseEnabled,
	"deduplicationscope":            types.QueueAttributeNameDeduplicationScope,
	"fifothroughputlimit":           types.QueueAttributeNameFifoThroughputLimit,
}

// enum values AWS expects in camel case
var attributeValues = map[string]string{ //nolint:gochecknoglobals
	"messagegroup":      "messageGroup",
	"queue":             "queue",
	"perqueue":          "perQueue",
	"permessagegroupid": "perMessageGroupId",
}

// toAwsAttribute copies attrs into ret using the AWS attribute names.
// Unknown keys are skipped.
func toAwsAttribute(attrs map[string]string, ret map[string]string) {
	for k, v := range attrs {
		name, ok := createAttributes[strings.ToLower(k)]
		if !ok {
			continue
		}

		switch name {
		case types.QueueAttributeNameDeduplicationScope, types.QueueAttributeNameFifoThroughputLimit:
			val, ok := attributeValues[strings.ToLower(v)]
			if !ok {
				continue
			}
			ret[string(name)] = val
		default:
			ret[string(name)] = v
		}
	}
}
