/*
Package api holds the wire types shared by the registry relay and its clients:
request and response bodies of the HTTP API and the multipart field names of
document uploads.

Every response carries a "status" of "success" or "error". Error responses
add a message and the stable code of the failure (see interfaces.ErrorCode).

The client library lives in the clients subpackage.
*/
package api
