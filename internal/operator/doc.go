// Package operator implements the line-oriented operator front end.
//
// Each line is split with POSIX shell rules, so arguments containing spaces
// are quoted ("add a1b2 'kitchen lamp' sonoff off"). The first word names a
// verb; the argument count must match the verb exactly.
//
//	add <guest> <display> <type> <status>
//	rename <display> <newdisplay>
//	del <display>
//	sync | ping | askstatus | askschedule | clear <display>
//	cmd <display> <command>
//	timed (add|del) <display> <epoch> (exact|fuzzy) <command>
//	recurrent (add|del) <display> <weekday> <hours> <minutes> (exact|fuzzy) <command>
//	devlist
//	guestlist
//	info <display>
//	schedule <display>
//
// Query verbs write their answer to the output stream; everything else is
// silent on success. Malformed lines fail with ErrUsage.
package operator
