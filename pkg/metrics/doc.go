/*
Package metrics provides Prometheus metrics and health reporting for minepanel.

All metrics are registered on the default registry at package init and served
by Handler at /metrics. Counters are incremented where the event happens
(deploy runs, lifecycle actions, logins, console commands, API requests);
gauges derived from state are refreshed by Collector on an interval.

# Metrics

	minepanel_instances_total{status}             gauge
	minepanel_retained_instances                  gauge
	minepanel_deploys_total{result}               counter
	minepanel_deploy_duration_seconds             histogram
	minepanel_image_pulls_total{result}           counter
	minepanel_lifecycle_actions_total{action,result} counter
	minepanel_logins_total{result}                counter
	minepanel_event_subscribers                   gauge
	minepanel_console_sessions                    gauge
	minepanel_console_commands_total{result}      counter
	minepanel_reconciliation_duration_seconds     histogram
	minepanel_reconciliation_cycles_total         counter
	minepanel_reconciliation_errors_total         counter
	minepanel_api_requests_total{route,status}    counter
	minepanel_api_request_duration_seconds{route} histogram

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeployDuration)

# Health

Components report their state with UpdateComponent or Check. /health is
unhealthy when any registered component is unhealthy; /ready additionally
waits for the critical components (containerd, storage and api by default)
to register.
*/
package metrics
