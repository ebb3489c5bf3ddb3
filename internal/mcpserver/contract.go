package mcpserver

// SearchSyntax describes the criteria and sort expressions accepted by the
// browse_catalog and search_catalog tools.
const SearchSyntax = `# Catalog Query Syntax

## Search criteria

` + "```" + `
criteria := "*" | expr
expr     := term ("or" term)*
term     := factor ("and" factor)*
factor   := "(" expr ")" | property op "value" | property exists true|false
` + "```" + `

Operators: ` + "`= != < <= > >= contains doesNotContain derivedfrom`" + `.
String comparison ignores case. ` + "`derivedfrom`" + ` matches a class and its
subclasses, e.g. ` + "`upnp:class derivedfrom \"object.item.audioItem\"`" + `.
Values are double-quoted; escape quotes inside with a backslash.

## Properties

- ` + "`dc:title`, `upnp:class`, `@id`, `@parentID`, `@refID`, `@childCount`" + `
- ` + "`upnp:artist` (alias `dc:creator`), `upnp:genre`, `upnp:album`" + `
- ` + "`dc:date`, `dc:year`, `dc:description`, `upnp:originalTrackNumber`" + `
- ` + "`res@mimeType`, `res@size`, `res@duration`, `res@resolution`, `res@bitrate`" + `

Numeric properties (track number, year, sizes, bitrate, child count)
compare as numbers.

## Sort criteria

Comma-separated properties, each prefixed with ` + "`+`" + ` (ascending, the
default) or ` + "`-`" + ` (descending): ` + "`+upnp:artist,-dc:date`" + `.
Ties keep the container order.

## Examples

` + "```" + `
upnp:genre = "Jazz" and dc:year >= "1960"
upnp:class derivedfrom "object.container.person"
dc:title contains "live" or upnp:album contains "live"
` + "```" + `
`
