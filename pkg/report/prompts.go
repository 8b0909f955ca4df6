package report

import (
	"fmt"
	"strings"
)

const tableShape = `All paths are stored as a JSON object of the form ` +
	`{collector name: {IP prefix: {peer: [AS path from the peer to the origin AS of the IP prefix]}}}. ` +
	`An empty path means the peer withdrew the route.`

const describeSystemPrompt = `You are an expert in Border Gateway Protocol. Given a set of AS paths to a specific IP prefix, describe the changes in these paths before and after a time stamp. Try to answer the following questions:
Does the existing path from each peer to the target IP prefix change? If it does, does the last AS (destination) change or not?
Is there any new AS path to a new sub-prefix introduced? If there is, compare it to the existing path with the same peer: is there any difference? Does the last AS (destination) change or not?`

const classifySystemPrompt = `A BGP route leak often results in adding unexpected transit ASes without changing the destination AS. In contrast, a BGP hijack typically leads to changing the destination AS in the AS path and potentially redirecting traffic away from the legitimate owner. These consequences may be reflected in just one AS path, and in a sub-prefix.
I will provide you an analysis of the AS path changes before and after an event. You need to identify the type of this event. Think step by step. Reply in one sentence.`

const voteEventSystemPrompt = `Given a list of descriptions of the event type of the same event, identify the event type by choosing the one given in most descriptions. Output the event type and one sentence of explanation.`

const voteChangeSystemPrompt = `Given a list of reports of the AS path changes, generate one output report that is in accordance with most of the reports in the given list.`

const reportSystemPrompt = `You are an expert in BGP network anomaly detection and explanation. An anomaly event was detected at a certain time, but what happened exactly is unknown and needs your help.
You will be given an analysis of the type of the event and a description of the change in AS paths before and after the event. You will also be given the AS paths collected by many collectors to the target IP prefix and its sub-prefixes before the anomaly event, after the anomaly event, and in the history for reference.
Gather this information and write a report about the event, including time, anomaly type, and the related AS numbers and IP prefixes, explaining the event in detail. If the data provided is not enough to identify the anomaly event, list, based on the history data, what necessary data is missing (i.e. the collectors that are missing).`

const originSystemPrompt = `You are an expert in BGP network anomaly detection and explanation. An anomaly event was detected at a certain time, but what happened exactly is unknown and needs your help.
You will be given the AS paths collected by many collectors to the IP prefixes of a target AS before the anomaly event and after it, as well as the AS paths to those IP prefixes in the history, and the time of the event. Explain what happened and what kind of anomaly event this is.
Then write a report about this event, including time, anomaly type, and the related AS numbers and IP prefixes. If the data provided is not enough to write the report, explain what data is missing.`

func describeUserPrompt(prefix, at, history, before, after string) string {
	return fmt.Sprintf(`%s is the target IP prefix. %s is the time stamp.
Here are the paths to this IP prefix and its sub-prefixes in history: %s
Here are the paths to this IP prefix and its sub-prefixes before the time stamp: %s
Here are the paths after the time stamp: %s
%s For example, in an AS path "97600": [97600, 12334, 54323, 2134], 2134 is the last and destination AS.
Now, describe the AS path changes.`, prefix, at, history, before, after, tableShape)
}

func classifyUserPrompt(description string) string {
	return "Analysis: " + description
}

func voteEventUserPrompt(eventTypes []string) string {
	return "List of event type descriptions:\n" + numbered(eventTypes)
}

func voteChangeUserPrompt(descriptions []string) string {
	return "List of AS path change reports:\n" + numbered(descriptions)
}

func reportUserPrompt(prefix, at, finalEvent, finalChange, history, before, after string) string {
	return fmt.Sprintf(`%s is the IP prefix detected to have a problem. %s is the time the event was detected to start.
%s is the description of the event type.
%s is the description of the change in AS paths before and after the event.
Here are the paths to this IP prefix in history: %s
Here are the paths to this IP prefix before the event: %s
Here are the paths after the event: %s
%s
Now, write the BGP anomaly event report. List what necessary data is missing.`, prefix, at, finalEvent, finalChange, history, before, after, tableShape)
}

func originUserPrompt(asn uint32, at, history, before, after string) string {
	return fmt.Sprintf(`AS%d is the autonomous system detected to have a problem. %s is the time the event was detected to start.
Here are the paths to this AS in history: %s
Here are the paths to this AS before the event: %s
Here are the paths after the event: %s
%s
Now, write the report.`, asn, at, history, before, after, tableShape)
}

func numbered(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(item))
	}
	return b.String()
}
