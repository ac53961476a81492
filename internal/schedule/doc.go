// Package schedule models scheduled device commands and their text form.
//
// An Event is either timed (fires once at an epoch second) or recurrent
// (fires at HH.MM on a weekday selector). The same single-line text form is
// exchanged with devices and shown to operators:
//
//	timed <x|z> <epoch> <command>
//	recurrent <x|z><weekday> <HH>.<MM> <command>
//
// x marks an exact timer, z a fuzzy one that the device jitters by up to
// FuzzyJitter. The command is one POSIX shell word, quoted when it holds
// spaces or shell metacharacters.
//
// Devices report their whole schedule as a descriptor: a "<count>/<capacity>"
// header followed by count event lines (see ParseDescriptor).
package schedule
