// Package harness runs scenario tests for the bot.
//
// A scenario sets up an in-memory platform, loads plugins, then plays a
// list of steps against a manager driven by a manual clock. After every
// step the manager polls once, so plugins see the world as the step left
// it. Assertions run on the hook trace and on what the bot did on the
// platform.
//
// # Scenario Format
//
//	name: greeter
//	description: "New posters get a welcome PM"
//	owner: owner
//	master: testsub
//	subreddits:
//	  - name: testsub
//	    mods: [mod1]
//	builtins: false
//	plugins:
//	  - plugins/greeter.lua
//	wiki:
//	  - {subreddit: testsub, page: greeter, content: "[Setup]\nmessage = hi", author: mod1}
//	steps:
//	  - submit: {subreddit: testsub, author: alice, title: "Hello"}
//	  - message: {author: mod1, body: "/count a b"}
//	  - advance: 90s
//	assertions:
//	  - type: dispatched
//	    hook: greet
//	    count: 1
//	  - type: inbox_count
//	    to: alice
//	    count: 1
//
// # Assertion Types
//
//   - dispatched: a hook ran exactly count times (optionally in a subreddit)
//   - dispatch_order: hooks first ran in the listed order
//   - inbox_count: number of PMs sent to a user
//   - modmail_count: number of modmails sent to a subreddit
//   - sent_contains: a message to a user or "/r/<sub>" contains text
//   - wiki_contains: a wiki page contains text
//   - storage: a plugin storage key holds a value
//   - reported: an item was reported with a reason
//
// Every run uses the same start time and inline hook execution, so traces
// are reproducible and can be compared to golden files.
package harness
