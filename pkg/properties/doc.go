/*
Package properties reads and edits the server.properties file of an instance.

The Bedrock server reads server.properties from its data directory at start.
The panel writes it twice: once during provisioning with the deploy
parameters, and whenever an operator edits keys from the dashboard. Both go
through Editor, backed by magiconair/properties.

# Editing Model

	<data-dir>/server.properties
	        │
	        ▼ Loader{UTF8, DisableExpansion, IgnoreMissing}
	┌──────────────────────────────┐
	│  *properties.Properties      │  keys in file order, comments kept
	└──────────────┬───────────────┘
	               │ Set(k, v) for each key, sorted
	               ▼
	   WriteComment("# ", UTF8), separator "="
	               │
	               ▼ config.WriteFileAtomic
	<data-dir>/server.properties

Existing keys keep their position and comments; new keys are appended in
sorted order so two identical edits produce identical files. Expansion of
${...} references is disabled: values such as MOTDs are stored verbatim.

A data directory without a properties file reads as an empty map and is
created on the first Set. A missing data directory is ErrNotFound.

# Validation

Validate rejects input that would not read back as the same key set:

  - empty keys
  - keys containing '=', ':', whitespace, '#' or '!'
  - values spanning more than one line

# Deploy Parameters

WorldValues maps a deploy request onto keys:

	server-name     instance display name
	server-port     IPv4 host port
	server-portv6   IPv6 host port, when assigned
	level-seed      seed, when set
	gamemode        game mode, when set
	difficulty      difficulty, when set
	level-type      level type, when set
	allow-cheats    only when the request sets it
	online-mode     only when the request sets it

Switches the request leaves unset keep whatever the image writes by default.

# Usage Examples

	editor := properties.NewEditor(volumes)

	values, err := editor.Set("mc-survival", map[string]string{
		"max-players": "20",
		"motd":        "Weekend server",
	})

Changes apply on the next start of the instance.
*/
package properties
